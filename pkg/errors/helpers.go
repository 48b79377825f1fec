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

package errors

import "fmt"

// Wrap annotates err with the operation that failed, preserving the chain
// for errors.Is/As. Returns nil when err is nil, so backend call sites can
// wrap unconditionally:
//
//	if err := s.client.Del(ctx, key).Err(); err != nil {
//	    return errors.Wrap(err, "redis del")
//	}
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Wrapf is Wrap with a formatted annotation, for call sites that need to
// name the offending key or value:
//
//	return errors.Wrapf(err, "redis version field %q", raw)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
