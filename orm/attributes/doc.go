// Package attributes tracks changes on instrumented objects.
//
// Every mapped object carries an InstanceState holding its loaded values
// and, for the attributes changed since the last commit, their committed
// values. Attribute implementations (scalar, mutable scalar, object
// reference and collection) intercept reads and writes, lazily load
// unloaded values and report History. Backref extensions keep both sides
// of a bidirectional relationship in step.
package attributes
