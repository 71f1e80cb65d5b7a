// Command wltoy-info connects to the compositor and reports what the toolkit sees:
// globals, outputs, seats, shm formats and the effective configuration.
package main

func main() {
	Execute()
}
