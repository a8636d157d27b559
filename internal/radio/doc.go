// Package radio defines the contract between the GATT central core and the
// underlying Bluetooth Low Energy stack.
//
// The stack is modelled the way embedded BLE host stacks expose it:
//   - Request operations (scan, open, MTU exchange, service search, notify
//     registration) return immediately with an acceptance error only
//   - Completions and unsolicited traffic arrive later as GAP and GATT events
//   - Every event is delivered to a single EventSink from one delivery
//     context, in the order the stack produced it
//   - Attribute counts and characteristic lookups are answered synchronously
//     from the stack's local attribute cache
//
// Identifiers handed out by the stack (interface ids, connection ids, attribute
// handles) are scoped to one registration or one physical link and must not
// be reused after the matching Disconnected event.
package radio
