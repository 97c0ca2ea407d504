/*
Package gateway assembles the per-cluster resource sets from the
validated configuration: SSH pool, scheduler client, transfer
orchestrator and health prober, plus the process-wide credential
provider, object storage, and pool pruner.

The API layer resolves the {system} path segment through Cluster() and
works against the returned bundle; it never constructs backends itself.
*/
package gateway
