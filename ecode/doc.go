// Package ecode holds the short field messages used when validating
// configuration and caller input, e.g.
//
//	ecode.FieldIsRequired("data.redis.url")   // "data.redis.url required"
//	ecode.FieldIsInvalidf("type", "timer")    // "type invalid: timer"
package ecode
