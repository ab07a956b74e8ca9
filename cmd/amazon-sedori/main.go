// Command amazon-sedori runs the retail arbitrage decision engine for one
// product identifier per invocation.
package main

import "github.com/mselser95/amazon-sedori/cmd"

func main() {
	cmd.Execute()
}
