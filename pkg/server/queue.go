/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server

import (
	"fmt"

	queuepkg "github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/plugin-socket/pkg/socket"
)

// connQueue hands accepted connections from the accept loop to the dispatcher.
type connQueue struct {
	q *queuepkg.Queue
}

func newConnQueue(hint int64) *connQueue {
	return &connQueue{q: queuepkg.New(hint)}
}

func (q *connQueue) put(c *socket.Conn) error {
	return q.q.Put(c)
}

// pop blocks until a connection is queued or the queue is disposed.
func (q *connQueue) pop() (*socket.Conn, error) {
	items, err := q.q.Get(1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("queue returned no items")
	}
	c, ok := items[0].(*socket.Conn)
	if !ok {
		return nil, fmt.Errorf("invalid queue element type %T", items[0])
	}
	return c, nil
}

func (q *connQueue) len() int64 { return q.q.Len() }

// dispose stops the queue and returns the connections nobody picked up.
func (q *connQueue) dispose() []*socket.Conn {
	var left []*socket.Conn
	for _, item := range q.q.Dispose() {
		if c, ok := item.(*socket.Conn); ok {
			left = append(left, c)
		}
	}
	return left
}
