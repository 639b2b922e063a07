// Package service supervises trainer subprocesses.
//
// Every job type owns one Job. A Job runs at most one trainer at a time and
// moves through the phases documented on Phase. Start converts the request
// body into training data files, launches the configured command in the job
// directory and returns. Two goroutines drain stdout and stderr line by line
// into LineLogs while a monitor goroutine waits for the exit and settles the
// phase. Status can be queried at any time and never blocks on the trainer.
//
// Cancel detaches the run from the Job and terminates the whole process
// group: SIGTERM first, SIGKILL after the configured kill_after.
package service
