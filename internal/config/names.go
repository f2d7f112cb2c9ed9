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

package config

import (
	"math/rand/v2"
)

var (
	nameAdjectives = []string{
		"Brave", "Calm", "Clever", "Eager", "Fuzzy", "Gentle", "Happy", "Jolly",
		"Lucky", "Mighty", "Noble", "Quick", "Quiet", "Sleepy", "Sunny", "Swift",
	}
	nameAnimals = []string{
		"Badger", "Beagle", "Corgi", "Falcon", "Fox", "Heron", "Husky", "Lynx",
		"Otter", "Panda", "Poodle", "Puffin", "Raven", "Terrier", "Walrus", "Wolf",
	}
)

// ServerName returns the name for a new server: a random two-word name when
// RandomizeName is set, otherwise the configured default.
func (d ServerDefaults) ServerName() string {
	if d.RandomizeName {
		return RandomServerName()
	}
	return d.Name
}

// RandomServerName returns a name such as "Swift Otter". Generated names
// always pass name validation.
func RandomServerName() string {
	return nameAdjectives[rand.IntN(len(nameAdjectives))] + " " + nameAnimals[rand.IntN(len(nameAnimals))]
}
