// Command drivesched is an operator CLI for the drivesched gRPC service.
package main

import (
	"fmt"
	"os"

	grpcTransport "drivesched/backend/internal/transport/grpc"
)

func main() {
	root := newRootCmd(func(addr string) (schedulerClient, error) {
		return grpcTransport.Dial(addr)
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
