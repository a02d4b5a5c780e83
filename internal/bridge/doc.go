// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bridge orchestrates remote capability servers.
//
// A capability server is an external process exposing named tools over
// HTTP endpoints (/info, /tools, /execute, /shutdown) plus a persistent
// websocket channel (/ws) for push-style messaging. The bridge keeps a
// registry of known servers, probes them on a fixed interval to refresh
// liveness and tool catalogs, maintains one duplex channel per online
// server, routes synchronous and correlated asynchronous invocations,
// and supervises server process lifecycles.
//
// The Bridge owns the server registry, the connection table, and the
// pending-request table. External consumers interact only through its
// invocation methods and bus subscriptions, never by touching those
// tables directly.
package bridge
