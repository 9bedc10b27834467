// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// verifyResumeToken checks a bearer token against signingKey before a
// checkpoint resume is allowed against a shared checkpoint directory.
// It is an opt-in guard: resume proceeds unauthenticated when no
// --signing-key is configured, matching a single-operator local
// workflow where the checkpoint directory is already access-controlled
// by the filesystem.
func verifyResumeToken(tokenString, signingKey, pipelineID string) error {
	if signingKey == "" {
		return nil
	}
	if tokenString == "" {
		return fmt.Errorf("resume requires --token when --signing-key is configured")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		return fmt.Errorf("invalid resume token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid resume token")
	}

	if sub, ok := claims["pipeline_id"].(string); ok && sub != "" && sub != pipelineID {
		return fmt.Errorf("resume token is not authorized for pipeline %q", pipelineID)
	}
	return nil
}
