// Package config loads lavapool's runtime configuration.
//
// Secrets and simple knobs come from the environment, optionally seeded from
// a .env file. The node list lives in a YAML file named by LAVAPOOL_NODES
// (nodes.yaml by default) so passwords and per-node tuning stay out of
// process arguments.
package config
