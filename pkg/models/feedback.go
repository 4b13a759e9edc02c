/*
 * Copyright 2025 RoverLab Robotics.
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

package models

import "time"

// FeedbackType classifies a feedback event for display purposes.
type FeedbackType string

const (
	FeedbackInfo    FeedbackType = "info"
	FeedbackSuccess FeedbackType = "success"
	FeedbackWarning FeedbackType = "warning"
	FeedbackError   FeedbackType = "error"
)

// FeedbackEvent is the human-facing record of robot activity delivered to
// a connection's subscriber. Every inbound envelope produces one, as do
// local milestones such as a connection being established.
type FeedbackEvent struct {
	RobotID   string                 `json:"robot_id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      FeedbackType           `json:"type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
