// Package domain contains the core entities of the queue engine: the durable
// queue item, the workflow task with its dependency edges, and their state
// machines. It is independent of any storage or delivery mechanism; every
// transition rule the engine enforces is expressed here as plain validation
// and predicates.
package domain
