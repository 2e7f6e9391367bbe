// Package natsgraph implements a discovery source that asks a graph
// responder for the topic list over NATS request/reply.
//
// The reply is JSON, either a bare array
//
//	[{"name":"/chatter","type":"std_msgs/msg/String"}]
//
// or an object wrapping it:
//
//	{"topics":[{"name":"/chatter","type":"std_msgs/msg/String","encoding":"cdr"}]}
//
// An empty graph must be sent as []. A null reply is treated as a failed
// poll, so it never evicts the known topics.
package natsgraph
