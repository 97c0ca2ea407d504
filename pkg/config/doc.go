/*
Package config loads, defaults and validates the YAML settings file.

The settings file is the single source of truth for the process: identity
provider parameters, SSH credential provisioning, the cluster inventory
and the optional S3 staging area. Load applies defaults first and then
validates the invariants the rest of the gateway relies on, so a *Settings
that made it past Load is safe to build resources from.

# Notable behaviors

Secrets:
  - The Secret type redacts itself through String(), so a secret can never
    leak via %v formatting or logging; Value() returns the real value
  - "secret_file:/path" indirection is resolved at unmarshal time

Cluster inventory:
  - clusters accepts an inline list or the string "path:/dir", in which
    case every *.yaml file in the directory holds one cluster

Validation highlights:
  - sshCredentials must configure exactly one of url (signing service) or
    keys (static map)
  - ssh idleTimeout must exceed commandExecution, so an in-flight command
    can never be pruned out from under its connection
  - at most one filesystem per cluster may be flagged defaultWorkDir
  - a slurm apiUrl requires an apiVersion
*/
package config
