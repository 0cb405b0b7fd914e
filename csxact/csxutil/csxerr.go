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

package csxutil

import (
	"fmt"
)

// Indicates a truncated or internally inconsistent wire payload.  The
// offending message gets dropped; the tracker that received it survives.
type TruncatedError struct {
	Text string
}

func NewTruncatedError(text string) *TruncatedError {
	return &TruncatedError{
		Text: text,
	}
}

func FmtTruncatedError(format string, args ...interface{}) *TruncatedError {
	return NewTruncatedError(fmt.Sprintf(format, args...))
}

func (e *TruncatedError) Error() string {
	return e.Text
}

func IsTruncated(err error) bool {
	_, ok := err.(*TruncatedError)
	return ok
}

// Indicates that all four CS config ids on a connection are in use.
type ConfigIdsExhaustedError struct {
	Text string
}

func NewConfigIdsExhaustedError(text string) *ConfigIdsExhaustedError {
	return &ConfigIdsExhaustedError{
		Text: text,
	}
}

func (e *ConfigIdsExhaustedError) Error() string {
	return e.Text
}

func IsConfigIdsExhausted(err error) bool {
	_, ok := err.(*ConfigIdsExhaustedError)
	return ok
}

// Indicates that no tracker exists for a connection handle / config id pair.
type NoTrackerError struct {
	Text string
}

func NewNoTrackerError(text string) *NoTrackerError {
	return &NoTrackerError{
		Text: text,
	}
}

func FmtNoTrackerError(format string, args ...interface{}) *NoTrackerError {
	return NewNoTrackerError(fmt.Sprintf(format, args...))
}

func (e *NoTrackerError) Error() string {
	return e.Text
}

func IsNoTracker(err error) bool {
	_, ok := err.(*NoTrackerError)
	return ok
}

// Represents a low-level transport error.
type XportError struct {
	Text string
}

func NewXportError(text string) *XportError {
	return &XportError{text}
}

func FmtXportError(format string, args ...interface{}) *XportError {
	return NewXportError(fmt.Sprintf(format, args...))
}

func (e *XportError) Error() string {
	return e.Text
}

func IsXport(err error) bool {
	if err == nil {
		return false
	}

	_, ok := err.(*XportError)
	return ok
}

// Indicates an attempt to transition to the already-current state.
type AlreadyError struct {
	Text string
}

func NewAlreadyError(text string) *AlreadyError {
	return &AlreadyError{text}
}

func (err *AlreadyError) Error() string {
	return err.Text
}

func IsAlready(err error) bool {
	if err == nil {
		return false
	}

	_, ok := err.(*AlreadyError)
	return ok
}
