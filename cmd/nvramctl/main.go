// Command nvramctl manages knvram partitions, partition tables, reset event
// counters and the application watchdog on a board.
package main

func main() {
	execute()
}
