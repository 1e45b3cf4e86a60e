package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - User, RefreshToken from user.go
// - Session from session.go
// - Question, Response, Evaluation from question.go

// Database schema overview:
// 1. users - Managed by token-based authentication
// 2. sessions - One coaching session per interview-practice run
// 3. questions - Ordered questions asked within a session
// 4. responses - One response per question (latest submission wins)
// 5. evaluations - One STAR evaluation per response
