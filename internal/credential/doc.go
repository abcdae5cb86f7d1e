// Package credential はユーザー認証情報の永続化を担当する。
//
// 保存先はリソースAPIと共有するJSONドキュメント（FileStore）か、
// 組み込みSQLite（SQLiteStore）のいずれか。どちらもユーザー名の一意性を
// 単一の原子的操作InsertUniqueで保証し、同時登録でも重複を生じない。
package credential
