// Package transport carries rendered messages out of the process. The
// dispatch engine treats every implementation the same way: a send either
// yields a remote id or an error, and anything the gateway does after
// accepting (queueing, carrier retries) is out of scope here.
package transport

import "context"

type Sender interface {
	Send(ctx context.Context, recipient, body string) (remoteID string, err error)
}
