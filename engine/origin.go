package engine

// OriginKind discriminates the two witnesses a dispatch may be invoked
// under.
type OriginKind uint8

const (
	// OriginSigned is a normal account-authenticated call.
	OriginSigned OriginKind = iota
	// OriginRoot is the privileged, account-less witness required by
	// toggle_pause.
	OriginRoot
)

// Origin is the opaque caller witness every dispatch consumes. Construct
// with Signed or Root; never build the zero value directly (it decodes
// as Signed(""), which RequireSigned rejects with ErrBadOrigin, so callers
// at the host boundary — rpc, wallet-submitted transactions — must always
// go through Signed()).
type Origin struct {
	kind    OriginKind
	account string
}

// Signed wraps an authenticated account identifier.
func Signed(account string) Origin { return Origin{kind: OriginSigned, account: account} }

// Root is the privileged origin used for toggle_pause.
func Root() Origin { return Origin{kind: OriginRoot} }

// RequireSigned extracts the calling account, or ErrBadOrigin if origin
// is not Signed.
func RequireSigned(o Origin) (string, error) {
	if o.kind != OriginSigned || o.account == "" {
		return "", ErrBadOrigin
	}
	return o.account, nil
}

// RequireRoot asserts origin is Root, or ErrBadOrigin otherwise. Every
// Signed origin — regardless of account — fails toggle_pause with
// BadOrigin, never NotAuthorized.
func RequireRoot(o Origin) error {
	if o.kind != OriginRoot {
		return ErrBadOrigin
	}
	return nil
}
