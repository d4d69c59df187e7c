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

package socket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type LogTestSuite struct {
	suite.Suite
	prev int32
}

func (s *LogTestSuite) SetupTest()    { s.prev = level.Load() }
func (s *LogTestSuite) TearDownTest() { level.Store(s.prev) }

func (s *LogTestSuite) TestLevels() {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newLogger("test", zap.New(core))

	SetLogLevel(LogTrace)
	l.tracef("trace %d", 1)
	l.debugf("debug %d", 2)
	l.infof("info %d", 3)
	l.warnf("warn %d", 4)
	l.errorf("error %d", 5)
	s.Equal(5, logs.Len())
	s.Equal("trace: trace 1", logs.All()[0].Message)

	SetLogLevel(LogWarn)
	l.debugf("hidden")
	l.infof("hidden")
	s.Equal(5, logs.Len())

	SetLogLevel(LogNone)
	l.errorf("hidden")
	s.Equal(5, logs.Len())
}

func (s *LogTestSuite) TestFailedConnectIsQuietAtWarn() {
	ln, err := Listen(context.Background(), loopback, nil)
	s.Require().NoError(err)
	addr := ln.Addr()
	s.Require().NoError(ln.Close())

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultConfig()
	cfg.Logger = zap.New(core)

	SetLogLevel(LogWarn)
	c := NewConn(cfg)
	s.Error(c.Connect(context.Background(), addr))
	s.Zero(logs.Len())

	SetLogLevel(LogDebug)
	c = NewConn(cfg)
	s.Error(c.Connect(context.Background(), addr))
	failed := logs.FilterMessageSnippet("failed").All()
	s.Require().NotEmpty(failed)
	s.Equal(zapcore.DebugLevel, failed[0].Level)
}

func TestLogTestSuite(t *testing.T) {
	suite.Run(t, new(LogTestSuite))
}
