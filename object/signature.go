package object

// Signature is the shape of a closure's function: the total arity seen by the
// foreign runtime and how many leading arguments are fixed at construction.
//
// The set is closed. A closure whose arity or fixed count disagrees with the
// function it calls makes the foreign runtime pass arguments in the wrong
// positions, so signatures can only be obtained from the values below.
type Signature struct {
	name  string
	arity uint16
	fixed uint16
	io    bool
}

var (
	// Pure1 takes one argument.
	Pure1 = Signature{name: "pure1", arity: 1}
	// IO1 takes one argument and the IO world token.
	IO1 = Signature{name: "io1", arity: 2, io: true}
	// BoundIO0 takes a fixed external and the world token.
	BoundIO0 = Signature{name: "bound_io0", arity: 2, fixed: 1, io: true}
	// BoundIO1 through BoundIO5 take a fixed external, one to five
	// arguments and the world token.
	BoundIO1 = Signature{name: "bound_io1", arity: 3, fixed: 1, io: true}
	BoundIO2 = Signature{name: "bound_io2", arity: 4, fixed: 1, io: true}
	BoundIO3 = Signature{name: "bound_io3", arity: 5, fixed: 1, io: true}
	BoundIO4 = Signature{name: "bound_io4", arity: 6, fixed: 1, io: true}
	BoundIO5 = Signature{name: "bound_io5", arity: 7, fixed: 1, io: true}
)

// Signatures lists every supported signature.
var Signatures = []Signature{Pure1, IO1, BoundIO0, BoundIO1, BoundIO2, BoundIO3, BoundIO4, BoundIO5}

// LookupSignature finds the signature with the given arity and fixed count.
func LookupSignature(arity, fixed uint16) (Signature, bool) {
	for _, s := range Signatures {
		if s.arity == arity && s.fixed == fixed {
			return s, true
		}
	}
	return Signature{}, false
}

func (s Signature) String() string { return s.name }

// Arity is the total parameter count, fixed arguments and world token included.
func (s Signature) Arity() uint16 { return s.arity }

// Fixed is the number of arguments stored in the closure.
func (s Signature) Fixed() uint16 { return s.fixed }

// IO reports whether the last parameter is the world token.
func (s Signature) IO() bool { return s.io }

// Valid reports whether s is one of the declared signatures.
func (s Signature) Valid() bool { return s.name != "" }

// Size is the closure object size for s.
func (s Signature) Size() uint32 {
	return ClosureBaseSize + SlotSize*uint32(s.fixed)
}
