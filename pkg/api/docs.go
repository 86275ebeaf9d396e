// Package api provides the read-only REST API of StarkIndexor
// @title StarkIndexor API
// @version 1.0
// @description REST API for querying Starknet projections indexed by StarkIndexor
// @contact.name API Support
// @contact.url https://github.com/goran-ethernal/StarkIndexor
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @basePath /api/v1
// @schemes http https
package api
