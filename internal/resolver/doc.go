// Package resolver partitions pending tasks into ready and blocked sets
// using the single-dependency edge, and orders ready tasks for dispatch.
package resolver
