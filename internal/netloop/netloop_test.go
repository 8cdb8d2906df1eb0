//
// Copyright 2024 The Akuma Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package netloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDialSendIsReceivedByListener(t *testing.T) {
	pair := NewPair()
	server := pair.Listener()
	client := pair.Dial()

	client.Send([]byte("Akuma Network Test"))
	assert.Equal(t, "Akuma Network Test", string(server.Recv()))
}

func TestListenerSendIsReceivedByClient(t *testing.T) {
	pair := NewPair()
	server := pair.Listener()
	client := pair.Dial()

	server.Send([]byte("ack"))
	assert.Equal(t, "ack", string(client.Recv()))
}

func TestSendCopiesItsInput(t *testing.T) {
	pair := NewPair()
	server := pair.Listener()
	client := pair.Dial()

	buf := []byte("mutate me")
	client.Send(buf)
	buf[0] = 'X'

	assert.Equal(t, "mutate me", string(server.Recv()))
}
