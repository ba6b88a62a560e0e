// Package messaging implements the signed envelope convention agents use to
// talk to each other: envelope sealing and verification, an in-process
// router, queue transports (memory, Redis, RabbitMQ), the webhook transport
// and the Bus that ties them together.
package messaging
