package pacing

import (
	"fmt"

	"github.com/cornelk/hashmap"
)

// Class is the closed taxonomy of send outcomes the engine reacts to.
// Raw transport status codes are folded into it by a Classifier; the state
// machine itself never sees a raw code.
type Class uint8

const (
	Success Class = iota
	Oversize
	Malformed
	AppError
	Congestion
	Disconnected
	Unclassified
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Oversize:
		return "oversize"
	case Malformed:
		return "malformed"
	case AppError:
		return "app-error"
	case Congestion:
		return "congestion"
	case Disconnected:
		return "disconnected"
	default:
		return "unclassified"
	}
}

// Classifier maps raw transport status codes onto the outcome taxonomy.
//
// The default table follows the NimBLE host codes, but the meaning of some
// codes shifts between stack revisions (10 has been observed as both
// "malformed data" and "end of stream"), so any code can be overridden at
// runtime. Overrides are read from the transport's outcome-delivery
// goroutine while they may be written from a control surface, hence the
// lock-free map.
type Classifier struct {
	overrides *hashmap.Map[int, Class]
}

// NewClassifier returns a classifier with the default NimBLE mapping and no
// overrides.
func NewClassifier() *Classifier {
	return &Classifier{overrides: hashmap.New[int, Class]()}
}

// Override pins a raw code to a class, replacing the built-in mapping.
func (c *Classifier) Override(code int, class Class) {
	c.overrides.Set(code, class)
}

// Classify folds a raw status code into the outcome taxonomy.
func (c *Classifier) Classify(code int) Class {
	if class, ok := c.overrides.Get(code); ok {
		return class
	}
	return defaultClass(code)
}

// ParseClass converts a class name as accepted by override configuration.
func ParseClass(s string) (Class, error) {
	switch s {
	case "success":
		return Success, nil
	case "oversize":
		return Oversize, nil
	case "malformed":
		return Malformed, nil
	case "app-error", "apperror":
		return AppError, nil
	case "congestion":
		return Congestion, nil
	case "disconnected":
		return Disconnected, nil
	case "unclassified":
		return Unclassified, nil
	default:
		return Unclassified, fmt.Errorf("unknown outcome class %q", s)
	}
}

// defaultClass holds the NimBLE host status code mapping:
//
//	0  OK            success (notification queued/sent)
//	14 EDONE         success (indication confirmed)
//	4  EMSGSIZE      payload too big for current context
//	9  EBADDATA      malformed data
//	8  EAPP          application error
//	6  ENOMEM        out of buffers
//	12 ENOMEEVT      out of event memory
//	13 ETIMEOUT      not confirmed in time
//	15 EBUSY         another procedure in progress
//	7  ENOTCONN      connection gone
//	10 EOS           end of stream (ambiguous across builds, see below)
//	11 EOS           end of stream
//
// Code 10 is reported as EBADDATA by some stack builds and EOS by others.
// It defaults to Disconnected because that reaction is the conservative
// one: it never speeds up pacing and never shrinks the chunk based on a
// misread. Deployments on stacks where 10 means bad data should override
// it to Malformed.
func defaultClass(code int) Class {
	switch code {
	case 0, 14:
		return Success
	case 4:
		return Oversize
	case 9:
		return Malformed
	case 8:
		return AppError
	case 6, 12, 13, 15:
		return Congestion
	case 7, 10, 11:
		return Disconnected
	default:
		return Unclassified
	}
}
