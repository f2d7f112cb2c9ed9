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

package shared

// Error codes for structured JSON output
const (
	ErrorCodeInvalidArgs      = "E001" // Bad flags or arguments
	ErrorCodeInvalidConfig    = "E002" // Configuration failed to load
	ErrorCodeDaemonNotRunning = "E101" // Control address unreachable
	ErrorCodeRejected         = "E102" // Daemon answered with an error
	ErrorCodeInternal         = "E402" // Anything else
)

// mapExitCodeToErrorCode maps exit codes to JSON error codes
func mapExitCodeToErrorCode(code int) string {
	switch code {
	case ExitInvalidArgs:
		return ErrorCodeInvalidArgs
	case ExitDaemonNotRunning:
		return ErrorCodeDaemonNotRunning
	case ExitRejected:
		return ErrorCodeRejected
	default:
		return ErrorCodeInternal
	}
}
