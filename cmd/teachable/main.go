// teachable - train an image classifier from webcam examples in the browser
package main

import "github.com/teslashibe/go-teachable/internal/cmd"

func main() {
	cmd.Execute()
}
