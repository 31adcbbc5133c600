// LlamaGate is a security gateway that fronts a local inference backend
// with API key authentication, per-key rate limits, a concurrency gate,
// and streaming-friendly request forwarding.
//
// Usage:
//
//	# Start the gateway with environment-driven configuration
//	llamagate run
//
//	# Start with a configuration file
//	llamagate run --config /etc/llamagate/config.yaml
//
//	# Manage the API keys file
//	llamagate keys generate production --rate-limit 120 --expires 90d
//	llamagate keys list
//	llamagate keys rotate production
//	llamagate keys remove old-client
//
//	# Show version information
//	llamagate version
package main

func main() {
	Execute()
}
