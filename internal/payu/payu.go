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

// Package payu builds signed PayU hosted-checkout requests and reads the
// results the gateway redirects back with.
package payu

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// udfSlots is the number of empty separators between email and salt in the
// request hash: five user-defined fields plus five reserved ones.
const udfSlots = 10

// Credentials are the merchant key and salt issued by the gateway.
type Credentials struct {
	Key  string
	Salt string
}

// Valid reports whether both key and salt are set.
func (c Credentials) Valid() bool {
	return c.Key != "" && c.Salt != ""
}

// Request is what the merchant asks the gateway to charge.
type Request struct {
	TxnID       string
	Amount      decimal.Decimal
	ProductInfo string
	FirstName   string
	Email       string
	Phone       string
	SuccessURL  string
	FailureURL  string
}

// FormFields are the exact fields posted to the gateway.
type FormFields struct {
	Key         string `json:"key"`
	TxnID       string `json:"txnid"`
	Amount      string `json:"amount"`
	ProductInfo string `json:"productinfo"`
	FirstName   string `json:"firstname"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	SURL        string `json:"surl"`
	FURL        string `json:"furl"`
	Hash        string `json:"hash"`
}

// FormatAmount renders an amount the way it is hashed and posted.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// HashInput is the pipe-delimited string the gateway recomputes server-side:
// key|txnid|amount|productinfo|firstname|email|<10 empty>|salt.
func HashInput(key, txnID, amount, productInfo, firstName, email, salt string) string {
	parts := make([]string, 0, 7+udfSlots)
	parts = append(parts, key, txnID, amount, productInfo, firstName, email)
	for i := 0; i < udfSlots; i++ {
		parts = append(parts, "")
	}
	parts = append(parts, salt)
	return strings.Join(parts, "|")
}

// Hash returns the lowercase hex SHA-512 of input.
func Hash(input string) string {
	sum := sha512.Sum512([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Sign builds the signed form fields for req.
func Sign(creds Credentials, req Request) FormFields {
	amount := FormatAmount(req.Amount)
	return FormFields{
		Key:         creds.Key,
		TxnID:       req.TxnID,
		Amount:      amount,
		ProductInfo: req.ProductInfo,
		FirstName:   req.FirstName,
		Email:       req.Email,
		Phone:       req.Phone,
		SURL:        req.SuccessURL,
		FURL:        req.FailureURL,
		Hash:        Hash(HashInput(creds.Key, req.TxnID, amount, req.ProductInfo, req.FirstName, req.Email, creds.Salt)),
	}
}

// Values returns the fields as a urlencoded form body.
func (f FormFields) Values() url.Values {
	v := url.Values{}
	v.Set("key", f.Key)
	v.Set("txnid", f.TxnID)
	v.Set("amount", f.Amount)
	v.Set("productinfo", f.ProductInfo)
	v.Set("firstname", f.FirstName)
	v.Set("email", f.Email)
	v.Set("phone", f.Phone)
	v.Set("surl", f.SURL)
	v.Set("furl", f.FURL)
	v.Set("hash", f.Hash)
	return v
}

// ParseResult flattens the query string of a redirect URL into a map. For
// repeated keys the first value wins.
func ParseResult(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return Flatten(u.Query()), nil
}

// Flatten keeps the first value of every key.
func Flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// ResponseHashInput is the reverse hash the gateway attaches to a result:
// salt|status|<5 empty>|udf5..udf1|email|firstname|productinfo|amount|txnid|key.
func ResponseHashInput(salt string, params map[string]string) string {
	parts := []string{salt, params["status"], "", "", "", "", ""}
	for i := 5; i >= 1; i-- {
		parts = append(parts, params["udf"+strconv.Itoa(i)])
	}
	parts = append(parts, params["email"], params["firstname"], params["productinfo"], params["amount"], params["txnid"], params["key"])
	return strings.Join(parts, "|")
}

// VerifyResult checks the hash carried by a gateway result.
func VerifyResult(creds Credentials, params map[string]string) bool {
	got := strings.ToLower(params["hash"])
	if got == "" {
		return false
	}
	want := Hash(ResponseHashInput(creds.Salt, params))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
