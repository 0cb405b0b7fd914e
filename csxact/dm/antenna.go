/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package dm

// Tone antenna config selection, indexed by
// [localAntennas-1][remoteAntennas-1].
var toneAntennaConfigMapping = [4][4]uint8{
	{0, 4, 5, 6},
	{1, 7, 7, 7},
	{2, 7, 7, 7},
	{3, 7, 7, 7},
}

// Preferred peer antenna bitmask, indexed by tone antenna config.
var preferredPeerAntennaMapping = [8]uint8{1, 1, 1, 1, 3, 7, 15, 3}

// selectToneAntennaConfig picks the tone antenna config and preferred
// peer antenna mask for the given antenna counts (both 1-4).
func selectToneAntennaConfig(localAntennas uint8,
	remoteAntennas uint8) (uint8, uint8) {

	if localAntennas < 1 || localAntennas > 4 {
		localAntennas = 1
	}
	if remoteAntennas < 1 || remoteAntennas > 4 {
		remoteAntennas = 1
	}

	cfg := toneAntennaConfigMapping[localAntennas-1][remoteAntennas-1]
	return cfg, preferredPeerAntennaMapping[cfg]
}
