/* Copyright 2016-2017 Vector Creations Ltd
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

package spec

import (
	"encoding/base64"
	"strings"
)

// A Base64Bytes is a string of bytes that Matrix carries as unpadded
// base64, such as ed25519 keys and signatures. The URL-safe alphabet is
// accepted when decoding since some identity servers publish keys that way.
type Base64Bytes []byte

// Encode encodes the bytes as unpadded base64.
func (b64 Base64Bytes) Encode() string {
	return base64.RawStdEncoding.EncodeToString(b64)
}

// Decode decodes the given input into this Base64Bytes. Trailing padding is
// tolerated.
func (b64 *Base64Bytes) Decode(str string) error {
	str = strings.TrimRight(str, "=")
	var err error
	if strings.ContainsAny(str, "-_") {
		*b64, err = base64.RawURLEncoding.DecodeString(str)
	} else {
		*b64, err = base64.RawStdEncoding.DecodeString(str)
	}
	return err
}
