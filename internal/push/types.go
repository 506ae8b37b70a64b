/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package push

const (
	PriorityHigh = "high"
	SoundDefault = "default"
)

// Data is the structured part of a notification read by the device.
type Data struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	IsCompleted bool   `json:"isCompleted"`
	Ongoing     bool   `json:"ongoing"`
	AutoDismiss bool   `json:"autoDismiss"`
	Icon        string `json:"icon,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Message is the body POSTed to the push gateway.
type Message struct {
	To       string `json:"to"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Data     Data   `json:"data"`
	Priority string `json:"priority"`
	Sound    string `json:"sound"`
}

type ticket struct {
	Data struct {
		Status  string `json:"status"`
		ID      string `json:"id,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}
