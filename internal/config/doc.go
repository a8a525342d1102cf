// Package config provides configuration management for the traffic gateway.
//
// A configuration is a single YAML document:
//
//	apiVersion: trafficgw.io/v1
//	kind: TrafficGateway
//	metadata:
//	  name: edge
//	spec:
//	  listen:
//	    port: 8080
//	  loadBalancer:
//	    algorithm: least_connections
//	  services:
//	    - id: users-1
//	      address: 10.0.0.1:8080
//	  rateLimitRules:
//	    - id: per-ip
//	      algorithm: token_bucket
//	      requests: 100
//	      window: 1m
//	  routingRules:
//	    - id: users
//	      match:
//	        path: /users/*
//	      targets: [users-1]
//
// Values may reference environment variables as ${VAR} or ${VAR:-default};
// a literal dollar sign is written as $$.
//
// LoadConfig parses a file and applies defaults; ValidateConfig reports
// every problem it finds as one *util.ValidationError. Watcher reloads the
// file on change and hands validated configurations to a callback.
package config
