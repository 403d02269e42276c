// Package cogen is a single-threaded cooperative scheduler for
// coroutine-style tasks: a task is an ordinary function that yields
// Operation values (sleep, socket I/O, signals, sub-task spawn/join) and
// resumes with whatever that operation produced, without ever running
// concurrently with any other task's body.
package cogen
