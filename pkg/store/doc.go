/*
Package store provides the durable, per-race namespaces races are decided on.

Each race identifier maps to its own namespace holding at most one finish
marker. Writing that marker is the only decision point of a race: the backend's
native create-if-absent primitive (O_EXCL link, PRIMARY KEY constraint, etcd
CreateRevision compare, bbolt serialized write transaction) guarantees that a
single writer commits it, whatever the number of processes contending.

Nothing in this package holds an application-level lock around that write, so
racers may live in separate address spaces as long as they share the backend.
*/
package store
