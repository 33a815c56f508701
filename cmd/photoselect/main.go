// Command photoselect picks the frames and object masks a photogrammetry reconstruction should use.
package main

func main() {
	Execute()
}
