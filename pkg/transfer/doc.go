/*
Package transfer orchestrates bulk data movement between cluster
filesystems and the outside world.

Files above the ops-size limit never travel through the gateway process.
Instead the orchestrator renders a shell script from a template, wraps it
into a job description staged under <default-work-dir>/<username> with
UUID-named log files, submits it as the calling user, and returns the job
handle plus method-specific directives:

  - s3: staging via presigned URLs against a per-user bucket. Uploads
    hand the user a PUT URL (or multipart part URLs plus a complete URL)
    on the public endpoint while a job pulls from the private endpoint;
    downloads run the inverse with a job pushing parts.
  - wormhole: a magic-wormhole sender or receiver runs inside the
    cluster; codes are NN-word-word-word over a fixed word list.
  - streamer: a job runs the fc-streamer WebSocket server; the user gets
    a base64url connection token (ports, IPs, secret).

Server-side cp, mv, rm, compress and extract reuse the same job staging
with a single shell line.
*/
package transfer
