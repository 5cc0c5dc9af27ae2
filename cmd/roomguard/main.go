// Command roomguard enrolls faces into rooms and authorizes people in front of
// the camera against them.
package main

func main() {
	Execute()
}
