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

// Package deeplink recognizes wallet-app links inside the payment page and
// hands them to whatever can open them on the device.
package deeplink

import (
	"context"
	"fmt"
	"strings"
)

var appNames = map[string]string{
	"upi":     "a UPI app",
	"gpay":    "Google Pay",
	"phonepe": "PhonePe",
	"paytm":   "Paytm",
}

// Opener is the platform facility that launches external apps.
type Opener interface {
	CanOpen(ctx context.Context, url string) bool
	Open(ctx context.Context, url string) error
}

// Matcher decides which navigations are wallet deep links.
type Matcher struct {
	schemes map[string]struct{}
}

// NewMatcher matches URLs against schemes such as "upi" or "gpay://".
func NewMatcher(schemes []string) *Matcher {
	m := &Matcher{schemes: make(map[string]struct{}, len(schemes))}
	for _, s := range schemes {
		m.schemes[strings.ToLower(strings.TrimSuffix(s, "://"))] = struct{}{}
	}
	return m
}

// Scheme returns the lowercase scheme of url, or "" if it has none.
func Scheme(url string) string {
	i := strings.Index(url, ":")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(url[:i])
}

// Match reports whether url uses one of the wallet schemes.
func (m *Matcher) Match(url string) (string, bool) {
	scheme := Scheme(url)
	if scheme == "" {
		return "", false
	}
	_, ok := m.schemes[scheme]
	return scheme, ok
}

// AppName is the human name of the app behind scheme.
func AppName(scheme string) string {
	if name, ok := appNames[scheme]; ok {
		return name
	}
	return scheme
}

// UnavailableMessage is shown when no installed app can take the link.
func UnavailableMessage(scheme string) string {
	return fmt.Sprintf("%s is not installed on this device. Please choose another payment option.", AppName(scheme))
}

// Capabilities is an Opener for a remote client that reported which schemes
// it can launch. Open records the url for the client to launch itself.
type Capabilities struct {
	schemes map[string]struct{}
	opened  []string
}

// NewCapabilities returns an Opener that can open the given schemes.
func NewCapabilities(schemes []string) *Capabilities {
	c := &Capabilities{schemes: make(map[string]struct{}, len(schemes))}
	for _, s := range schemes {
		c.schemes[strings.ToLower(strings.TrimSuffix(s, "://"))] = struct{}{}
	}
	return c
}

// CanOpen reports whether url's scheme is one the device declared.
func (c *Capabilities) CanOpen(_ context.Context, url string) bool {
	_, ok := c.schemes[Scheme(url)]
	return ok
}

// Open hands url to the device. It fails for schemes CanOpen rejects.
func (c *Capabilities) Open(ctx context.Context, url string) error {
	if !c.CanOpen(ctx, url) {
		return fmt.Errorf("no handler for %s", Scheme(url))
	}
	c.opened = append(c.opened, url)
	return nil
}

// Opened lists the urls handed to Open.
func (c *Capabilities) Opened() []string {
	return c.opened
}
