// Package process supervises external encoder processes.
//
// Job wraps os/exec for a single run:
//   - stdout and stderr share one pipe and are drained line by line, in order
//   - each line goes to a Sink and into a bounded buffer of recent lines
//   - exactly one terminal notification (Sink.OnEnd) after the state is terminal
//   - cancellation sends SIGINT to the process group, SIGKILL after a timeout
//
// States:
//
//	pending -> running -> completed | failed | cancelled
//	pending -> failed (spawn error) | cancelled
//
// Any exit code counts as completed; the code is attached to the Result.
//
// Pool keeps at most one live job per slot id:
//
//	pool := process.NewPool(&process.PoolOptions{
//	    OnStateChange: func(id string, old, new process.State, err error) {
//	        log.Printf("job %s: %s -> %s", id, old, new)
//	    },
//	})
//	job, err := pool.Start("session-1", process.Command{Program: "ffmpeg", Args: args}, sink)
//	defer pool.StopAll()
package process
