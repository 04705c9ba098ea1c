// Copyright 2024 The Cockroach Authors
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

package rosti

import "github.com/cockroachdb/errors"

// ErrCapacityOverflow is returned by TryReserve when the requested number of
// elements exceeds the maximum representable table size. The non-fallible
// growth paths (Reserve and the insert operations) panic with the same error
// instead of returning it.
//
// Allocation failures are distinct from capacity overflow: they originate in
// the configured Allocator and are returned (or panicked) wrapped, so
// errors.Is against the allocator's own error values still works.
var ErrCapacityOverflow = errors.New("rosti: table capacity overflow")
