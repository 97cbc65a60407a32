// Command srack serves HTTP through a pipeline assembled by a Lua
// configuration script.
package main

func main() {
	Execute()
}
