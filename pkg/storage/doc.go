/*
Package storage implements the StorageMechanism contract: the
pivot interface every backend (LocalFS, Remote, S3, InMemory) and every
wrapper (Cached, Validated) implements, so the DocumentRepository facade
in pkg/repository can be built against a single polymorphic contract
regardless of which concrete stack backs it.
*/
package storage
