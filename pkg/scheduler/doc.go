/*
Package scheduler abstracts the workload managers behind a single Client
interface with a normalized job model.

Three backends exist:

  - SlurmRestClient talks to slurmrestd over HTTP, forwarding the caller's
    access token in X-SLURM-USER-TOKEN. The submit document is shaped for
    the configured API version: 0.0.39 listified the environment and
    0.0.41 moved the script into the job object.
  - SlurmCliClient runs sbatch, sacct, scancel and scontrol on a login
    node through the user's SSH connection, relying on the --json output
    of the newer SLURM tools.
  - PbsCliClient runs qsub, qstat, pbsnodes and qdel the same way,
    parsing the -F json output.

Every operation acts as the calling user, so scheduler-side authorization
stays with the scheduler. Normalization keeps scheduler quirks out of the
API layer: durations become seconds, qstat timestamps become UNIX epochs,
memory strings become bytes, and exec_host expressions such as
"nid[001-004]/0" expand to full hostname lists.

Backends report ErrNotImplemented for operations their scheduler lacks
(PBS reservations and attach, script recovery over REST); the API maps
those to 501 responses.
*/
package scheduler
