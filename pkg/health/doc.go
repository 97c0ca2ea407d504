/*
Package health probes the availability of everything a request may need:
the scheduler, each shared filesystem, SSH login, and the object storage.

One Prober runs per cluster at the cluster's probing interval, plus one
for the storage. Each round fans the checks out concurrently, bounds
every check by the probing timeout, and publishes the results as a
single atomically replaced snapshot; request handlers consult the
snapshot through the Healthy gate and never trigger probes themselves.

Checks run as the cluster's service account, authenticated through the
client-credentials token source. A failing or panicking check marks the
service unhealthy with a message; it never stops the loop.
*/
package health
