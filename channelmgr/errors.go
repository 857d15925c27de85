package channelmgr

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import (
	"fmt"

	"github.com/edgeandnode/gateway-channels/walletapi"
)

func validationErrorf(format string, args ...interface{}) error {
	return &walletapi.ValidationError{Reason: fmt.Sprintf(format, args...)}
}
