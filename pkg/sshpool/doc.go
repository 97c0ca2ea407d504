/*
Package sshpool maintains per-user SSH connections to cluster login nodes
and executes filesystem and scheduler commands through them.

Every connection authenticates as the requesting end user with credentials
obtained from pkg/credentials; there is no shared privileged account. A pool
serves one cluster and keys connections by username, so the unit of pooling
is the pair (cluster, user).

# Architecture

	┌─────────────────────── SSH POOL ───────────────────────┐
	│                                                         │
	│  WithClient(user, token)                                │
	│        │  pool lock: reuse / evict-closed / create      │
	│        ▼                                                │
	│  ┌──────────────┐   credential    ┌──────────────────┐  │
	│  │ clients map  │──provisioning──▶│ dial (proxy jump │  │
	│  │ user->Client │                 │  + login node)   │  │
	│  └──────┬───────┘                 └──────────────────┘  │
	│         │                                               │
	│         ▼                                               │
	│  Client.Execute(cmd, stdin)                             │
	│    - one remote process per call, timeout-bounded       │
	│    - stdout/stderr drained up to the buffer limit       │
	│    - exit status fed to the command's parser            │
	│                                                         │
	│  Pruner (5s): close clients idle > idleTimeout          │
	└─────────────────────────────────────────────────────────┘

# Timeouts

  - connection: TCP dial deadline
  - login: SSH handshake deadline
  - commandExecution: wall-clock ceiling per Execute call; on expiry the
    remote process gets SIGINT plus a ^C on stdin, then the channel closes
  - idleTimeout: reaping threshold, must exceed commandExecution
  - keepAlive: cadence of keepalive@openssh.com pings; three consecutive
    failures close the connection

# Ordering

Commands on one Client are serialised by the single remote process per
Execute call. Distinct users' clients proceed in parallel. The pool lock
covers the acquire/create/evict critical section only.

# Failure Semantics

An authentication failure logs the certificate principals, validity window
and serial, then surfaces ErrConnection; the broken client is evicted so the
next request re-provisions credentials. ErrPoolCapacityExceeded is returned
when max_clients live connections exist for distinct users.
*/
package sshpool
