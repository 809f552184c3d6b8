// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gptimer

import (
	"context"
	"log"
	"time"

	"github.com/redis/rueidis"
)

const publishTimeout = 500 * time.Millisecond

// RedisReporter publishes report lines to a Redis pub/sub channel.
// Publishing is best effort; failures are logged and dropped.
type RedisReporter struct {
	ctx     context.Context
	client  rueidis.Client
	channel string
}

// NewRedisReporter creates a RedisReporter publishing on channel.
// Publishing stops when ctx is done.
func NewRedisReporter(ctx context.Context, client rueidis.Client, channel string) *RedisReporter {
	return &RedisReporter{ctx: ctx, client: client, channel: channel}
}

// DialRedis connects to the Redis server at addr and checks the connection.
func DialRedis(ctx context.Context, addr string) (rueidis.Client, error) {
	c, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, err
	}
	if err := c.Do(ctx, c.B().Ping().Build()).Error(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (r *RedisReporter) Alarm(a AlarmReport) {
	r.publish(a.String())
}

func (r *RedisReporter) Sample(s SampleReport) {
	r.publish(s.String())
}

func (r *RedisReporter) publish(msg string) {
	if r.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, publishTimeout)
	defer cancel()
	cmd := r.client.B().Publish().Channel(r.channel).Message(msg).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		log.Printf("publish to %s: %v", r.channel, err)
	}
}
