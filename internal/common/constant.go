package common

// AccessTokenHeaderName is the gRPC/HTTP metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// OpaqueTokenSize is the number of random bytes behind refresh and reset
// tokens (256 bits).
const OpaqueTokenSize = 32
