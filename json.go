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

package gomatrixstateres

import (
	"encoding/binary"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// CanonicalJSON re-encodes the JSON in a canonical encoding. The encoding is
// the shortest possible encoding using integer values with sorted object keys.
// https://spec.matrix.org/v1.8/appendices/#canonical-json
func CanonicalJSON(input []byte) ([]byte, error) {
	if !gjson.ValidBytes(input) {
		return nil, badJSONf("gjson validation failed")
	}
	return CanonicalJSONAssumeValid(input), nil
}

// CanonicalJSONAssumeValid is CanonicalJSON for input that is known to be
// valid JSON.
func CanonicalJSONAssumeValid(input []byte) []byte {
	input = CompactJSON(input, make([]byte, 0, len(input)))
	return SortJSON(input, make([]byte, 0, len(input)))
}

// EnforcedCanonicalJSON is CanonicalJSON that also rejects numbers that
// room versions with StrictCanonicalJSON forbid: floats and integers outside
// [-(2**53)+1, (2**53)-1].
func EnforcedCanonicalJSON(input []byte, rules AuthorizationRules) ([]byte, error) {
	if rules.StrictCanonicalJSON {
		if err := verifyEnforcedCanonicalJSON(input); err != nil {
			return nil, BadJSONError{err}
		}
	}
	return CanonicalJSON(input)
}

func verifyEnforcedCanonicalJSON(input []byte) error {
	valid := true
	res := gjson.ParseBytes(input)
	var iter func(key, value gjson.Result) bool
	iter = func(_, value gjson.Result) bool {
		if value.IsArray() || value.IsObject() {
			value.ForEach(iter)
			return valid
		}
		if value.Type != gjson.Number {
			return true
		}
		if !isCanonicalInteger(value.Raw) {
			valid = false
			return false
		}
		return true
	}
	res.ForEach(iter)
	if !valid {
		return fmt.Errorf("value is outside of safe range or is not an integer")
	}
	return nil
}

// isCanonicalInteger returns true if the raw JSON number is an integer in
// the range that canonical JSON allows. Negative zero is not canonical.
func isCanonicalInteger(raw string) bool {
	if raw == "-0" {
		return false
	}
	digits := raw
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if len(digits) == 0 || len(digits) > 16 {
		return false
	}
	var n int64
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int64(c-'0')
	}
	return n <= maxPowerLevel
}

// SortJSON reencodes the JSON with the object keys sorted by lexicographically
// by codepoint. The input must be valid JSON.
func SortJSON(input, output []byte) []byte {
	result := gjson.ParseBytes(input)
	return sortJSONValue(result, input, output)
}

// sortJSONValue takes a gjson.Result and sorts it. inputJSON must be the
// raw JSON bytes that gjson.Result points to.
func sortJSONValue(input gjson.Result, inputJSON, output []byte) []byte {
	if input.IsArray() {
		return sortJSONArray(input, inputJSON, output)
	}
	if input.IsObject() {
		return sortJSONObject(input, inputJSON, output)
	}
	// If its neither an object nor an array then there is no sub structure
	// to sort, so just append the raw bytes.
	if input.Type == gjson.Number && input.Raw == "-0" {
		return append(output, '0')
	}
	if input.Index > 0 {
		return append(output, inputJSON[input.Index:input.Index+len(input.Raw)]...)
	}
	return append(output, input.Raw...)
}

func sortJSONArray(input gjson.Result, inputJSON, output []byte) []byte {
	sep := byte('[')
	input.ForEach(func(_, value gjson.Result) bool {
		output = append(output, sep)
		sep = ','
		output = sortJSONValue(value, inputJSON, output)
		return true
	})
	if sep == '[' {
		// If sep is still '[' then the array was empty and we never wrote the
		// initial '[', so we write it now along with the closing ']'.
		output = append(output, '[', ']')
	} else {
		// Otherwise we end the array by writing a single ']'
		output = append(output, ']')
	}
	return output
}

type jsonEntry struct {
	key    string
	rawKey []byte
	value  gjson.Result
}

func sortJSONObject(input gjson.Result, inputJSON, output []byte) []byte {
	var entries []jsonEntry
	input.ForEach(func(key, value gjson.Result) bool {
		var rawKey []byte
		if key.Index > 0 {
			rawKey = inputJSON[key.Index : key.Index+len(key.Raw)]
		} else {
			rawKey = []byte(key.Raw)
		}
		entries = append(entries, jsonEntry{key: key.Str, rawKey: rawKey, value: value})
		return true
	})
	// Sort the entries by the unescaped key, which is ordering by codepoint.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})
	sep := byte('{')
	for _, entry := range entries {
		output = append(output, sep)
		sep = ','
		output = append(output, entry.rawKey...)
		output = append(output, ':')
		output = sortJSONValue(entry.value, inputJSON, output)
	}
	if sep == '{' {
		// If sep is still '{' then the object was empty and we never wrote the
		// initial '{', so we write it now along with the closing '}'.
		output = append(output, '{', '}')
	} else {
		// Otherwise we end the object by writing a single '}'
		output = append(output, '}')
	}
	return output
}

// CompactJSON makes the encoded JSON as small as possible by removing
// whitespace and unneeded unicode escapes
func CompactJSON(input, output []byte) []byte {
	var i int
	for i < len(input) {
		c := input[i]
		i++
		if c <= ' ' {
			// Skip over whitespace.
			continue
		}
		output = append(output, c)
		if c != '"' {
			continue
		}
		for i < len(input) {
			c = input[i]
			i++
			if c == '\\' && i < len(input) {
				escape := input[i]
				i++
				switch escape {
				case 'u':
					output, i = compactUnicodeEscape(input, output, i)
				case '/':
					output = append(output, escape)
				default:
					output = append(output, c, escape)
				}
				continue
			}
			output = append(output, c)
			if c == '"' {
				break
			}
		}
	}
	return output
}

func compactUnicodeEscape(input, output []byte, index int) ([]byte, int) {
	const (
		ESCAPES = "uuuuuuuubtnufruuuuuuuuuuuuuuuuuu"
		HEX     = "0123456789abcdef"
	)
	if len(input)-index < 4 {
		return output, len(input)
	}
	c := readHexDigits(input[index:])
	index += 4
	switch {
	case c < ' ':
		escape := ESCAPES[c]
		output = append(output, '\\', escape)
		if escape == 'u' {
			output = append(output, '0', '0', byte('0'+(c>>4)), HEX[c&0xF])
		}
	case c == '\\' || c == '"':
		output = append(output, '\\', byte(c))
	case c < 0xD800 || c >= 0xE000:
		var buffer [4]byte
		n := utf8.EncodeRune(buffer[:], rune(c))
		output = append(output, buffer[:n]...)
	default:
		// A UTF-16 surrogate pair. Anything that isn't a valid low surrogate
		// escape drops the high surrogate.
		if len(input)-index < 6 || input[index] != '\\' || input[index+1] != 'u' {
			return output, index
		}
		surrogate := readHexDigits(input[index+2:])
		if surrogate < 0xDC00 || surrogate >= 0xE000 {
			return output, index
		}
		index += 6
		codepoint := 0x10000 + (((c & 0x3FF) << 10) | (surrogate & 0x3FF))
		var buffer [4]byte
		n := utf8.EncodeRune(buffer[:], rune(codepoint))
		output = append(output, buffer[:n]...)
	}
	return output, index
}

// readHexDigits decodes four hex digits without branching on each digit.
func readHexDigits(input []byte) rune {
	hex := binary.BigEndian.Uint32(input)
	// subtract '0'
	hex -= 0x30303030
	// strip the higher bits, maps 'a' => 'A'
	hex &= 0x1F1F1F1F
	mask := hex & 0x10101010
	// subtract 'A' - 10 - '9' - 9 = 7 from the letters.
	hex -= mask >> 1
	hex += mask >> 4
	// collect the nibbles
	hex |= hex >> 4
	hex &= 0xFF00FF
	hex |= hex >> 8
	return rune(hex & 0xFFFF)
}
