// Package repository is the user-facing facade over any StorageMechanism:
// it translates intents (create a draft, commit a contract, check out the
// next version, post and borrow bag messages) into contract-respecting
// sequences of storage calls, consulting the notary for citation and
// signing work. It also houses the lease-expiry sweeper that returns aged
// processing messages to their bags.
package repository
