/*
Package types defines the value objects shared by every layer of the
repository: Tag, Version, Name, Citation, Document, Contract, and the
Bag/Message pair that backs leased message delivery.

All types here are immutable value objects except Document (mutable
while it is a draft, frozen once wrapped in a Contract) and the message
multiset inside a Bag, which is mutated by the storage layer.
*/
package types
